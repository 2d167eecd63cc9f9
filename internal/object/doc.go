// Package object implements the object model described in §4.4: a
// tagged-union representation of one remote entry (a regular file, a
// directory, a symlink, or a special file), its POSIX metadata encoded
// into reserved response headers, and its user extended attributes
// encoded into a distinct xattr-prefixed header namespace.
//
// This is grounded on the original C++ implementation's fs/object.*,
// fs/directory.h, fs/symlink.h, fs/special.cc and fs/metadata.cc (the
// reserved-key table and the type_checker_list dispatch used to decide
// which concrete type a HEAD/GET response describes), generalized from
// a type_checker_fn static-registration list into an ordered Go slice
// of checker functions. Header naming and the content-type fallback
// table follow the teacher's internal/storage/s3/backend.go, which
// already derives content-type from an object's key extension.
package object
