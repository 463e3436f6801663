// Embroider CLI - drives the staged template compilation pipeline
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: embroiderc [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles template trees using the compiler bundle configured in embroider.toml.\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  build                     Process the template tree per embroider.toml\n")
		fmt.Fprintf(os.Stderr, "  compile <file>            Compile one template to an executable module\n")
		fmt.Fprintf(os.Stderr, "  transform <file>          Run only user transforms over one template\n")
		fmt.Fprintf(os.Stderr, "  serialize [basedir]       Emit a portable configuration fragment\n")
		fmt.Fprintf(os.Stderr, "  worker <portable-config>  Serve compile requests over stdio\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  embroiderc build --stage 1 -o pretranspiled\n")
		fmt.Fprintf(os.Stderr, "  embroiderc compile templates/greeting.hbs\n")
		fmt.Fprintf(os.Stderr, "  embroiderc serialize . > portable.json && embroiderc worker portable.json\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	switch args[0] {
	case "build":
		handleBuildCommand(args[1:], *verbose)
	case "compile":
		handleOneShotCommand(args[1:], opCompile)
	case "transform":
		handleOneShotCommand(args[1:], opTransform)
	case "serialize":
		handleSerializeCommand(args[1:])
	case "worker":
		handleWorkerCommand(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
}
