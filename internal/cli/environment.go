package cli

import (
	"github.com/spf13/cobra"
)

// NewEnvironmentCmd создаёт группу команд для реестра окружений.
func NewEnvironmentCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "environment",
		Short: "Manage the environment registry",
	}

	cmd.AddCommand(
		newEnvironmentListCmd(clientFn, outputFn),
	)

	return cmd
}

func newEnvironmentListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var job string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known environments",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			envs, err := client.ListEnvironments(job)
			if err != nil {
				return err
			}

			headers := []string{"JOB", "ENVIRONMENT", "ACTIVE", "SEEN"}
			rows := make([][]string, len(envs))
			for i, e := range envs {
				active := "no"
				if e.Active {
					active = "yes"
				}
				rows[i] = []string{e.Job, e.Environment, active, e.SeenAt}
			}

			out.Print(headers, rows, envs)
			return nil
		},
	}

	cmd.Flags().StringVar(&job, "job", "", "only show environments of this job")

	return cmd
}
