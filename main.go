package main

import "failurebot/internal/app"

func main() {
	app.Main()
}
