// Package migrations provides SQL migration generation for the event store.
//
// To generate migrations, use the migrate-gen command:
//
//	go run github.com/getpup/pupcommand/cmd/migrate-gen -output migrations -adapter sqlite
//
// Or add a go generate directive to your code:
//
//	//go:generate go run github.com/getpup/pupcommand/cmd/migrate-gen -output ../../migrations
package migrations
