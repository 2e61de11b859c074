package main

import (
	"fmt"

	"github.com/relaywire/chatrelay/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
