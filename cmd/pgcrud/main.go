// Command pgcrud serves the users, posts and auth API and manages its schema.
package main

func main() {
	Execute()
}
