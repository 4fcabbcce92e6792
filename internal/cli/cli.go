package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RemoteServerConf is the address of the node the CLI talks to.
type RemoteServerConf struct {
	Host string
	Port int
}

var ServerConfig RemoteServerConf

var rootCmd = &cobra.Command{
	Use:   "smartlambda-cli",
	Short: "CLI utility for smartlambda",
	Long:  `CLI utility to interact with a smartlambda FaaS platform.`,
}

var funcName, class, method, paramType, reqId, eventId, eventName string
var at, in, every, cronSpec string
var params string
var memory int64
var timeout int
var hasParam, async, sync bool

func Init() {
	rootCmd.PersistentFlags().StringVarP(&ServerConfig.Host, "host", "H", ServerConfig.Host, "remote smartlambda host")
	rootCmd.PersistentFlags().IntVarP(&ServerConfig.Port, "port", "P", ServerConfig.Port, "remote smartlambda port")

	rootCmd.AddCommand(invokeCmd)
	invokeCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")
	invokeCmd.Flags().StringVarP(&params, "params", "p", "", "JSON parameter of the function")
	invokeCmd.Flags().BoolVarP(&async, "async", "a", false, "invoke asynchronously")
	invokeCmd.Flags().BoolVarP(&sync, "sync", "s", false, "invoke synchronously")
	invokeCmd.MarkFlagsMutuallyExclusive("async", "sync")

	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().StringVarP(&reqId, "request", "r", "", "ID of the async request")

	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")
	createCmd.Flags().StringVarP(&class, "class", "c", "", "class of the entry point")
	createCmd.Flags().StringVarP(&method, "method", "m", "", "method of the entry point")
	createCmd.Flags().BoolVar(&hasParam, "has-param", false, "the function takes a parameter")
	createCmd.Flags().StringVar(&paramType, "param-type", "", "type of the parameter (optional)")
	createCmd.Flags().Int64Var(&memory, "memory", 128, "max memory in MB for the function")
	createCmd.Flags().IntVar(&timeout, "timeout", 0, "timeout in seconds (0 for the node default)")
	createCmd.Flags().BoolVar(&async, "async", false, "invoke asynchronously by default")

	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(nodesCmd)

	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")

	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleCreateCmd)
	scheduleCreateCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function")
	scheduleCreateCmd.Flags().StringVarP(&eventName, "name", "n", "", "name of the schedule (optional)")
	scheduleCreateCmd.Flags().StringVarP(&params, "params", "p", "", "JSON parameter of the function")
	scheduleCreateCmd.Flags().StringVar(&at, "at", "", "first execution, RFC 3339")
	scheduleCreateCmd.Flags().StringVar(&in, "in", "", "first execution, as a delay from now (e.g. 5m)")
	scheduleCreateCmd.Flags().StringVar(&every, "every", "", "repeat at a fixed interval (e.g. 1h)")
	scheduleCreateCmd.Flags().StringVar(&cronSpec, "cron", "", "repeat following a cron expression")
	scheduleCreateCmd.MarkFlagsMutuallyExclusive("at", "in")
	scheduleCreateCmd.MarkFlagsMutuallyExclusive("every", "cron")
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleListCmd.Flags().StringVarP(&funcName, "function", "f", "", "name of the function (optional)")
	scheduleCmd.AddCommand(scheduleDeleteCmd)
	scheduleDeleteCmd.Flags().StringVarP(&eventId, "id", "i", "", "ID of the schedule")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func serverUrl(path string) string {
	return fmt.Sprintf("http://%s:%d%s", ServerConfig.Host, ServerConfig.Port, path)
}
