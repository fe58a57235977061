// Command cuttlefs mounts a FUSE filesystem that studies how
// applications react to storage failures under different fsync and
// journaling models.
package main

import "github.com/WiscADSL/cuttlefs/cmd"

func main() {
	cmd.Execute()
}
