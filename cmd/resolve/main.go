package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"worktime-monitor/internal/config"
	"worktime-monitor/internal/logging"
	"worktime-monitor/internal/timedoctor"
)

// resolve looks up a single subject id and prints the resolution as JSON.
func main() {
	subjectID := flag.String("user", "", "subject id to resolve")
	flag.Parse()

	if *subjectID == "" {
		fmt.Fprintln(os.Stderr, "usage: resolve -user <subject-id>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := logging.New("warn")

	auth := timedoctor.NewAuthManager(logger, timedoctor.NewFileStore(cfg.CredentialCacheFile), timedoctor.AuthConfig{
		BaseURL:     cfg.APIBaseURL,
		Email:       cfg.Email,
		Password:    cfg.Password,
		TOTPCode:    cfg.TOTPCode,
		Permissions: cfg.Permissions,
		CompanyName: cfg.CompanyName,
	})
	client := timedoctor.NewClientWithOptions(logger, auth, timedoctor.ClientOptions{
		PageDelay: cfg.PageDelay,
	})
	resolver := timedoctor.NewResolver(logger, client, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res := resolver.Resolve(ctx, *subjectID, nil)

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
