// Stepgraph CLI — инструмент командной строки для проверки
// workflow-документов и управления ими через HTTP API.
//
// Использование:
//
//	stepgraph [--api-url URL] [--json] [--policy strict|implicit] <command> [args]
//
// Команды:
//
//	validate  Проверка документов
//	order     Порядок выполнения шагов
//	graph     Граф в формате Graphviz DOT
//	resolve   Подстановка результатов во входы шага
//	workflow  Управление зарегистрированными workflows
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Stepgraph/internal/cli"
	"github.com/shaiso/Stepgraph/internal/engine"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool
	var policy string

	rootCmd := &cobra.Command{
		Use:           "stepgraph",
		Short:         "Stepgraph CLI — workflow document validation tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := os.Getenv("STEPGRAPH_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&policy, "policy", "", "Reference policy: strict (default) or implicit")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	policyFn := func() string { return policy }
	optsFn := func() (engine.Options, error) {
		p, err := engine.ParsePolicy(policy)
		if err != nil {
			return engine.Options{}, err
		}
		return engine.Options{Policy: p}, nil
	}

	rootCmd.AddCommand(
		cli.NewValidateCmd(optsFn, outputFn),
		cli.NewOrderCmd(optsFn, outputFn),
		cli.NewGraphCmd(optsFn, outputFn),
		cli.NewResolveCmd(optsFn, outputFn),
		cli.NewWorkflowCmd(clientFn, outputFn, policyFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
