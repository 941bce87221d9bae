package controller

import "github.com/blang/semver"

// Version is the core's build version, parsed once at init so a
// malformed literal fails at compile-test time rather than at some
// later comparison call.
//
// Grounded on the teacher's krd/latest_version.go, which carries a
// semver.Version (kr.CURRENT_VERSION) through the daemon for
// update-availability comparisons; this binary has no update server to
// compare against, so the comparison half is dropped and only the
// parsed, loggable version identity is kept.
var Version = semver.MustParse("0.1.0")
