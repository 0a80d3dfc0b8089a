// Package testutil provides testing utilities for the objstore module.
//
// It includes an in-memory provider that implements the full
// objstore.Provider contract, including cursor pagination and the ACL
// operations, so consumers can test against the contract without a
// backend.
//
// # Quick Start
//
//	p := testutil.NewProvider()
//	p.Initialize(context.Background())
//	key, _ := p.Upload(ctx, "public/hello.txt", objstore.BytesSource([]byte("hi")), nil)
package testutil
