// Command agentic runs the components of the workflow orchestration core:
// the orchestrator service, the tool gateway and the worker services.
package main

func main() {
	Execute()
}
