package main

import (
	formatter "github.com/bluexlab/logrus-formatter"
	"github.com/openebl/localca/pkg/localca/cli"
)

func main() {
	formatter.InitLogger()
	app := cli.NewCobraApp()
	app.Run()
}
