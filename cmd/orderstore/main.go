// Command orderstore runs the order service on top of an event store.
package main

func main() {
	Execute()
}
