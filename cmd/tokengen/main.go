// Command tokengen mints a signed access token for local testing and
// operator use.
package main

import (
	"flag"
	"fmt"
	"os"

	"geoattend/internal/auth"
	"geoattend/internal/config"
)

func main() {
	subject := flag.String("sub", "", "user id to put in the token subject")
	role := flag.String("role", string(auth.RoleStudent), "teacher or student")
	refresh := flag.Bool("refresh", false, "print the refresh token instead of the access token")
	flag.Parse()

	cfg := config.Load()
	pair, err := auth.Issue(*subject, auth.Role(*role), cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(2)
	}
	if *refresh {
		fmt.Println(pair.RefreshToken)
		return
	}
	fmt.Println(pair.AccessToken)
}
