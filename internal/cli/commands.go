package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/serverledge-faas/smartlambda/internal/client"
	"github.com/serverledge-faas/smartlambda/internal/event"
	"github.com/serverledge-faas/smartlambda/internal/function"
	"github.com/serverledge-faas/smartlambda/utils"
	"github.com/spf13/cobra"
)

var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Invokes a function",
	Run:   invoke,
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Polls the result of an asynchronous invocation",
	Run:   poll,
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Registers a new function",
	Run:   create,
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Deletes a function and its schedules",
	Run:   deleteFunction,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the available functions",
	Run:   list,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows the status of the node",
	Run:   status,
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Lists the nodes in the area of the remote node",
	Run:   nodes,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Shows the execution statistics of a function",
	Run:   stats,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manages scheduled invocations",
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Schedules an invocation",
	Run:   scheduleCreate,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the scheduled invocations",
	Run:   scheduleList,
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Deletes a scheduled invocation",
	Run:   scheduleDelete,
}

func exitOnError(what string, err error) {
	if err != nil {
		fmt.Printf("%s failed: %v\n", what, err)
		os.Exit(2)
	}
}

func requireFlag(cmd *cobra.Command, value, name string) {
	if value == "" {
		fmt.Printf("Missing %s.\n", name)
		_ = cmd.Help()
		os.Exit(1)
	}
}

// parseParams validates the JSON given with --params.
func parseParams() (json.RawMessage, error) {
	if params == "" {
		return nil, nil
	}
	if !json.Valid([]byte(params)) {
		return nil, errors.New("parameters are not valid JSON")
	}
	return json.RawMessage(params), nil
}

func postJson(path string, body any) {
	payload, err := json.Marshal(body)
	exitOnError("Request encoding", err)
	resp, err := utils.PostJson(serverUrl(path), payload)
	if resp != nil {
		utils.PrintJsonResponse(resp.Body)
	}
	exitOnError("Request", err)
}

func get(path string) {
	resp, err := utils.GetJson(serverUrl(path))
	if resp != nil {
		utils.PrintJsonResponse(resp.Body)
	}
	exitOnError("Request", err)
}

func invoke(cmd *cobra.Command, _ []string) {
	requireFlag(cmd, funcName, "function name")
	p, err := parseParams()
	exitOnError("Invocation", err)

	request := client.InvocationRequest{Params: p}
	if async || sync {
		request.Async = &async
	}
	postJson("/invoke/"+funcName, request)
}

func poll(cmd *cobra.Command, _ []string) {
	requireFlag(cmd, reqId, "request ID")
	get("/poll/" + reqId)
}

func create(cmd *cobra.Command, _ []string) {
	requireFlag(cmd, funcName, "function name")
	requireFlag(cmd, class, "entry point class")
	requireFlag(cmd, method, "entry point method")

	f := function.Function{
		Name:          funcName,
		Runtime:       "go",
		Class:         class,
		Method:        method,
		HasParameter:  hasParam,
		ParameterType: paramType,
		Async:         async,
		MemoryMB:      memory,
		Timeout:       timeout,
	}
	postJson("/create", f)
}

func deleteFunction(cmd *cobra.Command, _ []string) {
	requireFlag(cmd, funcName, "function name")
	postJson("/delete", client.FunctionDeletionRequest{Name: funcName})
}

func list(*cobra.Command, []string) {
	get("/function")
}

func status(*cobra.Command, []string) {
	get("/status")
}

func nodes(*cobra.Command, []string) {
	get("/nodes")
}

func stats(cmd *cobra.Command, _ []string) {
	requireFlag(cmd, funcName, "function name")
	get("/function/" + url.PathEscape(funcName) + "/stats")
}

// firstExecution computes the first execution time from --at or --in.
func firstExecution(now time.Time) (time.Time, error) {
	switch {
	case at != "":
		return time.Parse(time.RFC3339, at)
	case in != "":
		d, err := time.ParseDuration(in)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(d), nil
	default:
		return now, nil
	}
}

func recurrence() event.Recurrence {
	switch {
	case every != "":
		return event.Recurrence{Kind: event.Every, Every: every}
	case cronSpec != "":
		return event.Recurrence{Kind: event.Cron, Cron: cronSpec}
	default:
		return event.Recurrence{Kind: event.Once}
	}
}

func scheduleCreate(cmd *cobra.Command, _ []string) {
	requireFlag(cmd, funcName, "function name")
	p, err := parseParams()
	exitOnError("Scheduling", err)
	next, err := firstExecution(time.Now())
	exitOnError("Scheduling", err)

	postJson("/schedule", client.ScheduleRequest{
		Name:          eventName,
		Function:      funcName,
		NextExecution: next,
		Params:        p,
		Recurrence:    recurrence(),
	})
}

func scheduleList(*cobra.Command, []string) {
	path := "/schedule"
	if funcName != "" {
		path += "?function=" + url.QueryEscape(funcName)
	}
	get(path)
}

func scheduleDelete(cmd *cobra.Command, _ []string) {
	requireFlag(cmd, eventId, "schedule ID")
	resp, err := utils.DeleteRequest(serverUrl("/schedule/" + url.PathEscape(eventId)))
	if resp != nil {
		utils.PrintJsonResponse(resp.Body)
	}
	exitOnError("Deletion", err)
}
