// Command faceservice runs the face analysis service and its tooling
package main

import "github.com/MrCodeEU/faceservice/internal/cli"

func main() {
	cli.Execute()
}
