/*
Package client is the Go client of the claimd RADB API.

It is used by the claimd CLI and by managers joining a cluster; *Client
satisfies manager.ClusterJoiner.

	c, err := client.NewClient("manager:7950")
	if err != nil {
		return err
	}
	defer c.Close()

	tasks, err := c.GetTasks(ctx, types.TaskFilter{Cluster: "CEP4"})

Reads are retried on transient failures with the client's retry policy.
Writes make a single attempt: DoAssignment and HandleStatusEvent are not
safe to repeat blindly. Errors come back in claimd's taxonomy, so
errors.Is(err, types.ErrNotFound) works on the caller side.
*/
package client
