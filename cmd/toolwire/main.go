// Command toolwire connects to stdio tool providers, lists their tools and
// calls them.
package main

func main() {
	Execute()
}
