package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fathomlabs/authz"
	"github.com/fathomlabs/authz/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		handleValidate()
	case "convert":
		handleConvert()
	case "lint":
		handleLint()
	case "check":
		handleCheck()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("authz-config - configuration tool for authz")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  authz-config validate <file>            - validate a configuration")
	fmt.Println("  authz-config convert <input> <output>   - convert between formats")
	fmt.Println("  authz-config lint <file>                - check every policy condition")
	fmt.Println("  authz-config check <config> <request>   - explain a request against a config")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json, .bin")
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: authz-config validate <file>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println("Configuration is invalid:")
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Printf("  - %s\n", line)
		}
		os.Exit(1)
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Policies:    %d\n", len(cfg.Policies))
	fmt.Printf("  Roles:       %d\n", len(cfg.Roles))
	fmt.Printf("  Memberships: %d\n", len(cfg.Memberships))
	fmt.Printf("  Services:    %d\n", len(cfg.Services))
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: authz-config convert <input> <output>")
		os.Exit(1)
	}
	inputFile, outputFile := os.Args[2], os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)

	inStat, _ := os.Stat(inputFile)
	outStat, _ := os.Stat(outputFile)
	if inStat != nil && outStat != nil {
		fmt.Printf("Size: %d -> %d bytes\n", inStat.Size(), outStat.Size())
	}
}

func handleLint() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: authz-config lint <file>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	var problems, warnings int
	for i := range cfg.Policies {
		p := &cfg.Policies[i]
		_, err := authz.ParseConditionStrict(p.Condition, func(op string) {
			warnings++
			fmt.Printf("WARN  policy %s: unknown operator %q (node will never match)\n", p.Name, op)
		})
		if err != nil {
			problems++
			fmt.Printf("ERROR policy %s: %v\n", p.Name, err)
		}
	}

	fmt.Printf("Linted %d policies: %d errors, %d warnings\n", len(cfg.Policies), problems, warnings)
	if problems > 0 {
		os.Exit(1)
	}
}

func handleCheck() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: authz-config check <config> <request>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	reqData, err := os.ReadFile(os.Args[3])
	if err != nil {
		fmt.Printf("Error reading request: %v\n", err)
		os.Exit(1)
	}
	req := &authz.ExplainRequest{}
	if err := json.Unmarshal(reqData, req); err != nil {
		fmt.Printf("Error parsing request: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	st := authz.Stores{
		Policies:    stores.NewMemoryPolicyStore(),
		Roles:       stores.NewMemoryRoleStore(),
		Memberships: stores.NewMemoryMembershipStore(),
		Grants:      stores.NewMemoryGrantStore(),
	}
	if err := authz.ApplyConfig(ctx, cfg, st); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	engine := authz.NewEngine(st.Policies, cfg.Engine.EngineOptions()...)
	routerOpts := append(cfg.Engine.RouterOptions(), authz.WithEngine(engine))
	router := authz.NewRouter(routerOpts...)

	exp, err := router.ExplainRequest(ctx, req)
	if err != nil {
		fmt.Printf("Error explaining request: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Subject:      %s\n", exp.Subject)
	fmt.Printf("Permission:   %s\n", exp.Permission)
	if exp.Resource != "" {
		fmt.Printf("Resource:     %s\n", exp.Resource)
	}
	fmt.Printf("Flat check:   %v\n", exp.FlatAllowed)
	if exp.Decision != authz.DecisionNone {
		fmt.Printf("Decision:     %s\n", exp.Decision)
	}
	if len(exp.MatchedPolicies) > 0 {
		fmt.Printf("Matched:      %s\n", strings.Join(exp.MatchedPolicies, ", "))
	}
	if exp.EngineError != "" {
		fmt.Printf("Engine error: %s\n", exp.EngineError)
	}
	fmt.Printf("Combine mode: %s\n", exp.CombineMode)
	fmt.Printf("Reason:       %s\n", exp.Reason)
	if exp.Allowed {
		fmt.Println("Result:       ALLOWED")
	} else {
		fmt.Println("Result:       DENIED")
		os.Exit(1)
	}
}

func loadConfig(path string) (*authz.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	loader := authz.NewConfigLoader()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	case ".bin":
		return loader.LoadBinary(data)
	}
	return nil, fmt.Errorf("unsupported format %q", filepath.Ext(path))
}

func saveConfig(cfg *authz.Config, path string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	case ".bin":
		data, err = authz.EncodeBinaryConfig(cfg)
	default:
		return fmt.Errorf("unsupported format %q", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
