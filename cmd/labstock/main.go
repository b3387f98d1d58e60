package main

import (
	"os"
)

func main() {
	app := NewApp()
	if err := app.Execute(app.Command()); err != nil {
		os.Exit(1)
	}
}
