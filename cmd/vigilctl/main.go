// vigilctl is the on-demand presentation surface for the coordinator. It
// holds no state of its own: every invocation rebuilds its view from the
// coordinator's API.
package main

func main() {
	Execute()
}
