// Command modcheck checks text against the moderation pipeline from a
// terminal.
package main

func main() {
	Execute()
}
