// Package main implements the beehive CLI.
package main

func main() {
	Execute()
}
