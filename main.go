package main

import "gitlab.com/paramountdax-exchange/referral_api/cmd"

func main() {
	cmd.Execute()
}
