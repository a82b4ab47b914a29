package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/claimd/pkg/api"
	"github.com/cuemby/claimd/pkg/propagator"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	resourceCmd = &cobra.Command{Use: "resource", Short: "Inspect and update resources"}
	claimCmd    = &cobra.Command{Use: "claim", Short: "Inspect resource claims"}
	taskCmd     = &cobra.Command{Use: "task", Short: "Inspect, assign and delete tasks"}
	eventCmd    = &cobra.Command{Use: "event", Short: "Send task status events"}
	clusterCmd  = &cobra.Command{Use: "cluster", Short: "Manage the manager cluster"}
)

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func joinInts(ids []int) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func parseID(arg, what string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id: %s", what, arg)
	}
	return id, nil
}

// Resource commands

var resourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources",
	Long: `List resources, optionally restricted to types or a group subtree.

Examples:
  claimd resource list --type storage
  claimd resource list --group CEP4`,
	RunE: func(cmd *cobra.Command, args []string) error {
		typeNames, _ := cmd.Flags().GetStringSlice("type")
		group, _ := cmd.Flags().GetString("group")

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		filter := types.ResourceFilter{GroupRoot: group}
		for _, t := range typeNames {
			filter.Types = append(filter.Types, types.ResourceType(t))
		}
		resources, err := c.GetResources(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("failed to list resources: %v", err)
		}

		w := newTable()
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tTOTAL\tAVAILABLE\tUNIT\tACTIVE\tGROUPS")
		for _, r := range resources {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%t\t%s\n",
				r.ID, r.Name, r.Type, r.TotalCapacity, r.AvailableCapacity, r.Unit, r.Active, joinInts(r.GroupIDs))
		}
		return w.Flush()
	},
}

var resourceUpdateCmd = &cobra.Command{
	Use:   "update RESOURCE_ID",
	Short: "Update availability of a resource",
	Long: `Update availability of a resource. Only the given flags change.

Examples:
  claimd resource update 117 --active=false
  claimd resource update 117 --available 400000000000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "resource")
		if err != nil {
			return err
		}

		var update types.ResourceUpdate
		flags := cmd.Flags()
		if flags.Changed("active") {
			v, _ := flags.GetBool("active")
			update.Active = &v
		}
		if flags.Changed("available") {
			v, _ := flags.GetInt64("available")
			update.AvailableCapacity = &v
		}
		if flags.Changed("total") {
			v, _ := flags.GetInt64("total")
			update.TotalCapacity = &v
		}
		if update.Active == nil && update.AvailableCapacity == nil && update.TotalCapacity == nil {
			return fmt.Errorf("nothing to update: set --active, --available or --total")
		}

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		res, err := c.UpdateResourceAvailability(context.Background(), id, update)
		if err != nil {
			return fmt.Errorf("failed to update resource: %v", err)
		}
		fmt.Printf("✓ Resource %s updated (active=%t available=%d total=%d)\n",
			res.Name, res.Active, res.AvailableCapacity, res.TotalCapacity)
		return nil
	},
}

var resourceGroupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List resource groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		groups, err := c.GetResourceGroups(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list resource groups: %v", err)
		}

		w := newTable()
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tPARENTS\tCHILDREN\tRESOURCES")
		for _, g := range groups {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				g.ID, g.Name, g.Type, joinInts(g.ParentIDs), joinInts(g.ChildIDs), joinInts(g.ResourceIDs))
		}
		return w.Flush()
	},
}

func init() {
	resourceListCmd.Flags().StringSlice("type", nil, "Resource types to list")
	resourceListCmd.Flags().String("group", "", "Only list resources below this group")

	resourceUpdateCmd.Flags().Bool("active", true, "Whether the resource may be claimed")
	resourceUpdateCmd.Flags().Int64("available", 0, "Available capacity")
	resourceUpdateCmd.Flags().Int64("total", 0, "Total capacity")

	resourceCmd.AddCommand(resourceListCmd, resourceUpdateCmd, resourceGroupsCmd)
}

// Claim commands

func printClaims(claims []*types.ResourceClaim) error {
	w := newTable()
	fmt.Fprintln(w, "ID\tRESOURCE\tTASK\tSTART\tEND\tSIZE\tSTATUS")
	for _, cl := range claims {
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%d\t%s\n",
			cl.ID, cl.ResourceID, cl.TaskID, formatTime(cl.StartTime), formatTime(cl.EndTime), cl.ClaimSize, cl.Status)
	}
	return w.Flush()
}

func printTasks(tasks []*types.Task) error {
	w := newTable()
	fmt.Fprintln(w, "ID\tOTDB\tMOM\tTYPE\tSTATUS\tSTART\tEND\tCLUSTER\tSPEC")
	for _, t := range tasks {
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%d\n",
			t.ID, t.OTDBID, t.MomID, t.Type, t.Status, formatTime(t.StartTime), formatTime(t.EndTime), t.Cluster, t.SpecificationID)
	}
	return w.Flush()
}

var claimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List claims",
	Long: `List claims matching all given filters.

Examples:
  claimd claim list --task 12
  claimd claim list --resource 117 --status conflict`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		taskIDs, _ := flags.GetIntSlice("task")
		resourceIDs, _ := flags.GetIntSlice("resource")
		statuses, _ := flags.GetStringSlice("status")

		filter := types.ClaimFilter{TaskIDs: taskIDs, ResourceIDs: resourceIDs}
		for _, s := range statuses {
			filter.Statuses = append(filter.Statuses, types.ClaimStatus(s))
		}

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		claims, err := c.GetClaims(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("failed to list claims: %v", err)
		}
		return printClaims(claims)
	},
}

var claimCapacityCmd = &cobra.Command{
	Use:   "capacity RESOURCE_ID",
	Short: "Show claimable capacity of a resource in a window",
	Long: `Show the capacity of a resource that can still be claimed during the
whole window [from, to].

Example:
  claimd claim capacity 117 --from 2026-10-14T10:00:00Z --to 2026-10-14T12:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "resource")
		if err != nil {
			return err
		}
		from, err := timeFlag(cmd, "from")
		if err != nil {
			return err
		}
		to, err := timeFlag(cmd, "to")
		if err != nil {
			return err
		}

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		capacity, err := c.GetClaimableCapacity(context.Background(), id, from, to)
		if err != nil {
			return fmt.Errorf("failed to get claimable capacity: %v", err)
		}
		fmt.Println(capacity)
		return nil
	},
}

var claimOverlapsCmd = &cobra.Command{
	Use:   "overlaps CLAIM_ID",
	Short: "List claims (or their tasks) overlapping a claim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "claim")
		if err != nil {
			return err
		}
		showTasks, _ := cmd.Flags().GetBool("tasks")

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if showTasks {
			tasks, err := c.GetOverlappingTasks(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to get overlapping tasks: %v", err)
			}
			return printTasks(tasks)
		}
		claims, err := c.GetOverlappingClaims(context.Background(), id)
		if err != nil {
			return fmt.Errorf("failed to get overlapping claims: %v", err)
		}
		return printClaims(claims)
	},
}

func timeFlag(cmd *cobra.Command, name string) (time.Time, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return time.Time{}, fmt.Errorf("--%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %v", name, err)
	}
	return t, nil
}

func init() {
	claimListCmd.Flags().IntSlice("task", nil, "Task ids")
	claimListCmd.Flags().IntSlice("resource", nil, "Resource ids")
	claimListCmd.Flags().StringSlice("status", nil, "Claim statuses (tentative, claimed, conflict)")

	claimCapacityCmd.Flags().String("from", "", "Window start (RFC3339)")
	claimCapacityCmd.Flags().String("to", "", "Window end (RFC3339)")

	claimOverlapsCmd.Flags().Bool("tasks", false, "List the overlapping tasks instead of claims")

	claimCmd.AddCommand(claimListCmd, claimCapacityCmd, claimOverlapsCmd)
}

// Task commands

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		statuses, _ := flags.GetStringSlice("status")
		taskTypes, _ := flags.GetStringSlice("type")
		cluster, _ := flags.GetString("cluster")

		filter := types.TaskFilter{Cluster: cluster}
		for _, s := range statuses {
			filter.Statuses = append(filter.Statuses, types.TaskStatus(s))
		}
		for _, t := range taskTypes {
			filter.Types = append(filter.Types, types.TaskType(t))
		}

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		tasks, err := c.GetTasks(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %v", err)
		}
		return printTasks(tasks)
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show one task",
	Long: `Show one task, looked up by exactly one of its ids.

Examples:
  claimd task get --otdb 2000042`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		var req api.GetTaskRequest
		req.ID, _ = flags.GetInt("id")
		req.OTDBID, _ = flags.GetInt("otdb")
		req.MomID, _ = flags.GetInt("mom")

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		task, err := c.GetTask(context.Background(), req)
		if err != nil {
			return fmt.Errorf("failed to get task: %v", err)
		}

		w := newTable()
		fmt.Fprintf(w, "ID:\t%d\n", task.ID)
		fmt.Fprintf(w, "OTDB ID:\t%d\n", task.OTDBID)
		fmt.Fprintf(w, "MoM ID:\t%d\n", task.MomID)
		fmt.Fprintf(w, "Type:\t%s\n", task.Type)
		fmt.Fprintf(w, "Status:\t%s\n", task.Status)
		fmt.Fprintf(w, "Window:\t%s - %s\n", formatTime(task.StartTime), formatTime(task.EndTime))
		fmt.Fprintf(w, "Cluster:\t%s\n", task.Cluster)
		fmt.Fprintf(w, "Specification:\t%d\n", task.SpecificationID)
		fmt.Fprintf(w, "Predecessors:\t%s\n", joinInts(task.PredecessorIDs))
		fmt.Fprintf(w, "Successors:\t%s\n", joinInts(task.SuccessorIDs))
		return w.Flush()
	},
}

var taskAssignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Submit a specification tree for resource assignment",
	Long: `Submit a specification tree (YAML or JSON) for resource assignment.

Without --wait the command returns once the request is queued.

Examples:
  claimd task assign -f observation.yaml --wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")
		wait, _ := cmd.Flags().GetBool("wait")

		tree, err := readTree(filename)
		if err != nil {
			return err
		}

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.DoAssignment(context.Background(), tree, wait)
		if err != nil {
			return fmt.Errorf("failed to assign: %v", err)
		}
		if !wait {
			fmt.Printf("✓ Assignment queued: %s\n", resp.RequestID)
			return nil
		}

		if resp.Failure != "" {
			fmt.Printf("✗ Task %d %s (%s): %s\n", resp.TaskID, resp.Status, resp.Failure, resp.Reason)
		} else {
			fmt.Printf("✓ Task %d %s by %s scheduler\n", resp.TaskID, resp.Status, resp.Scheduler)
		}
		if len(resp.ChangedTaskIDs) > 0 {
			fmt.Printf("  Changed tasks: %s\n", joinInts(resp.ChangedTaskIDs))
		}
		return nil
	},
}

// readTree parses a specification tree file. YAML is converted to JSON
// first so the JSON field names and time formats apply to both.
func readTree(filename string) (*types.SpecificationTree, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %v", err)
	}

	if !json.Valid(data) {
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %v", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("failed to convert YAML: %v", err)
		}
	}

	var tree types.SpecificationTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse specification tree: %v", err)
	}
	return &tree, nil
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete SPECIFICATION_ID",
	Short: "Delete a specification with its task and claims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "specification")
		if err != nil {
			return err
		}

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.DeleteSpecification(context.Background(), id); err != nil {
			return fmt.Errorf("failed to delete specification: %v", err)
		}
		fmt.Printf("✓ Specification %d deleted\n", id)
		return nil
	},
}

func init() {
	taskListCmd.Flags().StringSlice("status", nil, "Task statuses")
	taskListCmd.Flags().StringSlice("type", nil, "Task types")
	taskListCmd.Flags().String("cluster", "", "Cluster name")

	taskGetCmd.Flags().Int("id", 0, "RADB task id")
	taskGetCmd.Flags().Int("otdb", 0, "OTDB (tree) id")
	taskGetCmd.Flags().Int("mom", 0, "MoM id")

	taskAssignCmd.Flags().StringP("file", "f", "", "Specification tree file (required)")
	taskAssignCmd.Flags().Bool("wait", false, "Wait for the assignment outcome")
	_ = taskAssignCmd.MarkFlagRequired("file")

	taskCmd.AddCommand(taskListCmd, taskGetCmd, taskAssignCmd, taskDeleteCmd)
}

// Event commands

var eventSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Deliver a task status event",
	Long: `Deliver a task control status event to the status propagator.

Examples:
  claimd event send --otdb 2000042 --state active
  claimd event send --otdb 2000042 --state finished --time 2026-10-14T12:03:00Z`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		otdbID, _ := flags.GetInt("otdb")
		state, _ := flags.GetString("state")
		at, _ := flags.GetString("time")
		if otdbID <= 0 {
			return fmt.Errorf("--otdb is required")
		}

		ev := propagator.TaskEvent{Kind: types.TaskStatus(state), OTDBID: otdbID, Time: time.Now().UTC()}
		if at != "" {
			t, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("invalid --time: %v", err)
			}
			ev.Time = t
		}

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.HandleStatusEvent(context.Background(), ev); err != nil {
			return fmt.Errorf("failed to send event: %v", err)
		}
		fmt.Printf("✓ Event %s delivered for tree %d\n", ev.Kind, ev.OTDBID)
		return nil
	},
}

func init() {
	eventSendCmd.Flags().Int("otdb", 0, "OTDB (tree) id of the task")
	eventSendCmd.Flags().String("state", "", "New task state (active, completing, finished, aborted, ...)")
	eventSendCmd.Flags().String("time", "", "Time of change (RFC3339, default now)")
	_ = eventSendCmd.MarkFlagRequired("state")

	eventCmd.AddCommand(eventSendCmd)
}

// Cluster commands

var clusterInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show cluster information",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		info, err := c.GetClusterInfo(context.Background())
		if err != nil {
			return fmt.Errorf("failed to get cluster info: %v", err)
		}

		fmt.Printf("Node ID: %s\n", info.NodeID)
		fmt.Printf("Leader: %t\n", info.Leader)
		if info.LeaderAddr != "" {
			fmt.Printf("Leader Address: %s\n", info.LeaderAddr)
		}
		if len(info.Raft) > 0 {
			out, err := yaml.Marshal(info.Raft)
			if err != nil {
				return err
			}
			fmt.Println("Raft:")
			for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
				fmt.Printf("  %s\n", line)
			}
		}
		return nil
	},
}

var clusterJoinTokenCmd = &cobra.Command{
	Use:   "join-token",
	Short: "Generate a token for a new manager to join",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.GenerateJoinToken(context.Background())
		if err != nil {
			return fmt.Errorf("failed to generate join token: %v", err)
		}

		fmt.Println("✓ Join token generated")
		fmt.Printf("  Token: %s\n", resp.Token)
		fmt.Printf("  Expires: %s\n", formatTime(resp.ExpiresAt))
		fmt.Println()
		fmt.Println("Join a new manager with:")
		fmt.Printf("  claimd serve --node-id <id> --bind-addr <addr> --join <leader-api-addr> --token %s\n", resp.Token)
		return nil
	},
}

func init() {
	clusterCmd.AddCommand(clusterInfoCmd, clusterJoinTokenCmd)
}
