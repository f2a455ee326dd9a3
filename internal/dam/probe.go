package dam

import (
	"context"
	"fmt"
)

// Probe checks connectivity and credentials, trying the current API first and
// falling back to the legacy API when the current one is not found. It returns
// the version that answered.
func (c *Client) Probe(ctx context.Context) (APIVersion, error) {
	tryVersion := func(v APIVersion) error {
		_, err := c.get(ctx, "probe "+v.Name, c.baseURL+v.ProbePath, true)
		return err
	}

	err := tryVersion(V2)
	if err == nil {
		return V2, nil
	}
	if !IsKind(err, KindNotFound) {
		return APIVersion{}, err
	}

	err = tryVersion(V1)
	if err == nil {
		return V1, nil
	}
	if IsKind(err, KindNotFound) {
		return APIVersion{}, fmt.Errorf("DAM API endpoint not found (tried v2 and v1), check the base URL: %w", err)
	}
	return APIVersion{}, err
}
