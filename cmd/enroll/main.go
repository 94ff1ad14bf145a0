// Command enroll exports the interactive credential store into the enrolled
// dataset served by restricted deployments.
//
//	enroll -d "file:data/app.db" -out dataset.json
//	enroll -o s3 -b passkeygate -d "file:data/app.db"
//
// Without -out the dataset goes to the configured object store under
// ENROLLED_DATASET_KEY.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dmitrijs2005/passkeygate/internal/flagx"
	"github.com/dmitrijs2005/passkeygate/internal/server"
	"github.com/dmitrijs2005/passkeygate/internal/server/config"
	"github.com/dmitrijs2005/passkeygate/internal/server/enroll"
	"github.com/dmitrijs2005/passkeygate/internal/server/repositories/credentials"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var out string
	fs := flag.NewFlagSet("enroll", flag.ContinueOnError)
	fs.StringVar(&out, "out", "", "write the dataset to this file instead of the object store")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-out"})); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(args)
	if err != nil {
		return err
	}

	repo, closeDB, err := server.OpenSQL(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	var dst credentials.DatasetSource
	if out != "" {
		dst = credentials.FileSource{Path: out}
	} else {
		objects, err := server.NewObjectStore(ctx, cfg)
		if err != nil {
			return err
		}
		dst = credentials.ObjectSource{Store: objects, Key: cfg.EnrolledDatasetKey}
	}

	ds, err := enroll.Export(ctx, repo, dst)
	if err != nil {
		return err
	}

	fmt.Printf("exported %d users and %d credentials\n", len(ds.Users), len(ds.Credentials))
	return nil
}
