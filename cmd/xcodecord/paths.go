package main

import "tools.zach/dev/xcodecord/internal/paths"

// DataPaths aliases [paths.DataDir] so command code can build data directory
// paths without qualifying the internal package.
type DataPaths = paths.DataDir
