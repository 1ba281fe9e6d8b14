package main

import "github.com/atomicobject/filesearch-core/cmd"

func main() {
	cmd.Execute()
}
