package main

import "budgeteer-server/src/cmd"

func main() {
	cmd.Execute()
}
