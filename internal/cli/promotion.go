package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewPromotionCmd создаёт группу команд для управления promotion-процессами.
func NewPromotionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promotion",
		Short: "Manage promotions",
	}

	cmd.AddCommand(
		newPromotionStatusCmd(clientFn, outputFn),
		newPromotionApproveCmd(clientFn, outputFn),
		newPromotionForceCmd(clientFn, outputFn),
		newPromotionProcessesCmd(clientFn, outputFn),
	)

	return cmd
}

func newPromotionStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status BUILD_ID",
		Short: "Show promotion status of a branch build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			status, err := client.PromotionStatus(args[0])
			if err != nil {
				return err
			}

			out.Print(statusHeaders, statusRows(status), status)
			return nil
		},
	}
}

func newPromotionApproveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var user string
	var params []string

	cmd := &cobra.Command{
		Use:   "approve BUILD_ID PROCESS",
		Short: "Manually approve a promotion process",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := ApprovePromotionRequest{User: user}

			if len(params) > 0 {
				req.Parameters = make(map[string]string)
				for _, kv := range params {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid param format %q, expected KEY=VALUE", kv)
					}
					req.Parameters[parts[0]] = parts[1]
				}
			}

			status, err := client.ApprovePromotion(args[0], args[1], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Promotion approved: %s", args[1]))
			out.Print(statusHeaders, statusRows(status), status)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Approving user")
	cmd.Flags().StringSliceVar(&params, "param", nil, "Approval parameters as KEY=VALUE (repeatable)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func newPromotionForceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "force BUILD_ID PROCESS",
		Short: "Force a promotion process bypassing its conditions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			status, err := client.ForcePromotion(args[0], args[1], ForcePromotionRequest{User: user})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Promotion forced: %s", args[1]))
			out.Print(statusHeaders, statusRows(status), status)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Forcing user")
	cmd.MarkFlagRequired("user")

	return cmd
}

func newPromotionProcessesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "processes",
		Short: "List configured promotion processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			processes, err := client.ListProcesses()
			if err != nil {
				return err
			}

			headers := []string{"PROCESS", "DISPLAY_NAME", "ENVIRONMENT", "CONDITIONS"}
			rows := make([][]string, len(processes))
			for i, p := range processes {
				rows[i] = []string{
					p.Process,
					p.DisplayName,
					strings.Join(p.Environment, ","),
					strings.Join(p.Conditions, ","),
				}
			}

			out.Print(headers, rows, processes)
			return nil
		},
	}
}

var statusHeaders = []string{"PROCESS", "QUALIFIED", "PROMOTED", "ATTEMPTS", "LAST_RESULT"}

// statusRows строит табличное представление статуса: сначала
// квалифицированные процессы, затем ожидающие условий.
func statusRows(status *PromotionStatusResponse) [][]string {
	rows := make([][]string, 0, len(status.Qualified)+len(status.Pending))

	for _, p := range status.Qualified {
		promoted := "no"
		attempts := "0"
		lastResult := ""
		if p.State != nil {
			if p.State.Promoted {
				promoted = "yes"
			}
			attempts = strconv.Itoa(len(p.State.Attempts))
		}
		if p.Last != nil {
			lastResult = p.Last.Result
		}
		rows = append(rows, []string{p.Process, "yes", promoted, attempts, lastResult})
	}

	for _, p := range status.Pending {
		rows = append(rows, []string{p.Process, "no", "no", "0", ""})
	}

	return rows
}
