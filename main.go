package main

import "github.com/andresmejia3/tagvision/cmd"

func main() {
	cmd.Execute()
}
