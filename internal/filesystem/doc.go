// Package filesystem is the storage the process manager loads programs from
// and redirects process input and output to. Access goes through numbered
// descriptors: Open, ReadAll or Write, then Close.
//
// Memory keeps files in a map and is what tests use. Dir serves a directory
// on disk and transparently decompresses gzip and zstd program files.
package filesystem
