// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package zipstream implements a seekable ZIP64 archive engine: given a
manifest describing members backed by objects in a remote blob store, it
computes the exact byte layout of the resulting ZIP archive before any data
is fetched, and streams arbitrary byte ranges of that archive on demand,
fetching only the blob-store ranges a given request actually needs.

It differs from archive/zip in three ways that matter for serving large
archives over HTTP: the total archive length is known before the first
byte is written (so an accurate Content-Length can be returned), the byte
stream is randomly seekable at Range-request granularity without
materializing member data ahead of time, and member content lives in a
remote blob store rather than in local files.

See: https://www.pkware.com/appnote for the ZIP/ZIP64 format this package
implements (STORED compression only, ZIP64 extensions always in use for
sizes and offsets). This package does not support disk spanning,
compression, directories, symlinks or encryption.
*/
package zipstream
