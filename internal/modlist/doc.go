// Package modlist renders the enabled mods as a copy-and-paste list of
// markdown links for community chat channels.
package modlist
