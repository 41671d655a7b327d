// Package workspace provides the extraction arena a boot uses for nested
// artifacts pulled out of zip containers. Files live in one temporary
// directory which is removed as a whole when the boot ends.
package workspace
