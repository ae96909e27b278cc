package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewWorkflowCmd создаёт группу команд для управления зарегистрированными workflows.
// policyFn возвращает значение глобального флага --policy.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output, policyFn func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage registered workflows",
	}

	cmd.AddCommand(
		newWorkflowListCmd(clientFn, outputFn),
		newWorkflowCreateCmd(clientFn, outputFn),
		newWorkflowShowCmd(clientFn, outputFn),
		newWorkflowDeleteCmd(clientFn, outputFn),
		newWorkflowVersionsCmd(clientFn, outputFn),
		newWorkflowPublishCmd(clientFn, outputFn, policyFn),
		newWorkflowSubmitCmd(clientFn, outputFn, policyFn),
	)

	return cmd
}

var workflowHeaders = []string{"ID", "NAME", "CREATED"}

func workflowRow(wf WorkflowResponse) []string {
	return []string{wf.ID, wf.Name, wf.CreatedAt}
}

func newWorkflowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			workflows, err := client.ListWorkflows()
			if err != nil {
				return err
			}

			rows := make([][]string, len(workflows))
			for i, wf := range workflows {
				rows[i] = workflowRow(wf)
			}

			out.Print(workflowHeaders, rows, workflows)
			return nil
		},
	}
}

func newWorkflowCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			wf, err := client.CreateWorkflow(name)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow created: %s", wf.ID))
			out.Print(workflowHeaders, [][]string{workflowRow(*wf)}, wf)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Workflow name (required)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newWorkflowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show workflow details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			wf, err := client.GetWorkflow(args[0])
			if err != nil {
				return err
			}

			out.Print(workflowHeaders, [][]string{workflowRow(*wf)}, wf)
			return nil
		},
	}
}

func newWorkflowDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a workflow and all its versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteWorkflow(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow deleted: %s", args[0]))
			return nil
		},
	}
}

func newWorkflowVersionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "versions WORKFLOW_ID",
		Short: "List workflow versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			versions, err := client.ListVersions(args[0])
			if err != nil {
				return err
			}

			headers := []string{"WORKFLOW_ID", "VERSION", "STEPS", "CREATED"}
			rows := make([][]string, len(versions))
			for i, v := range versions {
				rows[i] = []string{v.WorkflowID, strconv.Itoa(v.Version), strconv.Itoa(v.StepCount), v.CreatedAt}
			}

			out.Print(headers, rows, versions)
			return nil
		},
	}
}

func newWorkflowPublishCmd(clientFn func() *Client, outputFn func() *Output, policyFn func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "publish WORKFLOW_ID FILE",
		Short: "Validate a document and store it as a new workflow version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			source, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[1], err)
			}

			version, err := client.CreateVersion(args[0], string(source), policyFn())
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Version %d published", version.Version))
			out.Print(
				[]string{"WORKFLOW_ID", "VERSION", "STEPS", "CREATED"},
				[][]string{{version.WorkflowID, strconv.Itoa(version.Version), strconv.Itoa(version.StepCount), version.CreatedAt}},
				version,
			)
			return nil
		},
	}
}

func newWorkflowSubmitCmd(clientFn func() *Client, outputFn func() *Output, policyFn func() string) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Queue a document for asynchronous validation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			resp, err := client.Submit(name, string(source), policyFn())
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Document submitted: %s", args[0]))
			out.Print([]string{"WORKFLOW", "VERDICT"}, [][]string{{resp.Workflow, resp.Verdict}}, resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "workflow", "", "Registered workflow to store the version in (empty: check only)")

	return cmd
}
