package main

import "github.com/ValentinKolb/respKV/cmd"

func main() {
	cmd.Execute()
}
