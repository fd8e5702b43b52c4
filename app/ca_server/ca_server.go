package main

import (
	formatter "github.com/bluexlab/logrus-formatter"
	"github.com/openebl/localca/pkg/ca_server/cli"
)

func main() {
	formatter.InitLogger()
	cli := cli.App{}
	cli.Run()
}
