/*
Package aptrelease parses and verifies the metadata of Debian/Ubuntu APT
repositories.

aptrelease reads Release and InRelease files into an immutable description
of a repository suite, with features including:
  - Clear-signed envelope stripping and PGP signature verification
  - Strict field and hash-section validation
  - Compressed variant resolution and by-hash paths
  - Fetch planning, downloading and checking of index files

The main packages are:

	github.com/mirrorctl/aptrelease/internal/apt       - Release parsing and validation
	github.com/mirrorctl/aptrelease/internal/verify    - PGP signature verification
	github.com/mirrorctl/aptrelease/internal/fetch     - Fetch planning, downloads and tree checks
	github.com/mirrorctl/aptrelease/internal/config    - TOML configuration and logging setup
	github.com/mirrorctl/aptrelease/cmd/releasectl     - Command-line interface
*/
package aptrelease
