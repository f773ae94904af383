package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewBuildCmd создаёт группу команд для управления сборками веток.
func NewBuildCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Manage branch builds",
	}

	cmd.AddCommand(
		newBuildListCmd(clientFn, outputFn),
		newBuildTriggerCmd(clientFn, outputFn),
		newBuildShowCmd(clientFn, outputFn),
		newBuildCancelCmd(clientFn, outputFn),
		newBuildEnvironmentsCmd(clientFn, outputFn),
	)

	return cmd
}

func newBuildListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var job string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List branch builds",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			builds, err := client.ListBuilds(ListBuildsOpts{
				Job:    job,
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "JOB", "NUMBER", "STATUS", "RESULT", "CREATED"}
			rows := make([][]string, len(builds))
			for i, b := range builds {
				rows[i] = []string{b.ID, b.Job, strconv.Itoa(b.Number), b.Status, b.Result, b.CreatedAt}
			}

			out.Print(headers, rows, builds)
			return nil
		},
	}

	cmd.Flags().StringVar(&job, "job", "", "Filter by job name")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (QUEUED, RUNNING, COMPLETED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newBuildTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var scmVars []string

	cmd := &cobra.Command{
		Use:   "trigger JOB",
		Short: "Trigger a new branch build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := TriggerBuildRequest{Job: args[0]}

			if len(scmVars) > 0 {
				req.SCMVars = make(map[string]string)
				for _, kv := range scmVars {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid var format %q, expected KEY=VALUE", kv)
					}
					req.SCMVars[parts[0]] = parts[1]
				}
			}

			build, err := client.TriggerBuild(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Build triggered: %s #%d", build.Job, build.Number))
			out.Print(
				[]string{"ID", "JOB", "NUMBER", "STATUS", "CREATED"},
				[][]string{{build.ID, build.Job, strconv.Itoa(build.Number), build.Status, build.CreatedAt}},
				build,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&scmVars, "var", nil, "SCM variables as KEY=VALUE (repeatable)")

	return cmd
}

func newBuildShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show branch build details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			build, err := client.GetBuild(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "JOB", "NUMBER", "STATUS", "RESULT", "ERROR", "CREATED"},
				[][]string{{build.ID, build.Job, strconv.Itoa(build.Number), build.Status, build.Result, build.Error, build.CreatedAt}},
				build,
			)
			return nil
		},
	}
}

func newBuildCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a queued or running branch build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			build, err := client.CancelBuild(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Build cancelled: %s #%d", build.Job, build.Number))
			return nil
		},
	}
}

func newBuildEnvironmentsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "environments BUILD_ID",
		Short: "List environment builds of a branch build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			envs, err := client.ListEnvironmentBuilds(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "ENVIRONMENT", "STATUS", "RESULT", "ERROR"}
			rows := make([][]string, len(envs))
			for i, e := range envs {
				rows[i] = []string{e.ID, e.Environment, e.Status, e.Result, e.Error}
			}

			out.Print(headers, rows, envs)
			return nil
		},
	}
}
