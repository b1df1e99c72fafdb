// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package contracts

import (
	"github.com/juju/errors"
	"golang.org/x/sys/unix"
	"gopkg.in/ini.v1"
)

// OSReleasePath is where the distribution describes itself.
const OSReleasePath = "/etc/os-release"

// SystemInfo describes the machine requesting a machine token.
type SystemInfo struct {
	Architecture    string
	KernelVersion   string
	Version         string
	VersionID       string
	VersionCodename string
}

// ReadSystemInfo reads the distribution details from osRelease and the
// kernel details from uname.
func ReadSystemInfo(osRelease string) (SystemInfo, error) {
	info, err := parseOSRelease(osRelease)
	if err != nil {
		return SystemInfo{}, errors.Trace(err)
	}
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return SystemInfo{}, errors.Annotate(err, "reading kernel details")
	}
	info.KernelVersion = unix.ByteSliceToString(uts.Release[:])
	info.Architecture = unix.ByteSliceToString(uts.Machine[:])
	return info, nil
}

func parseOSRelease(path string) (SystemInfo, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return SystemInfo{}, errors.Annotatef(err, "reading %s", path)
	}
	section := cfg.Section(ini.DefaultSection)
	return SystemInfo{
		Version:         section.Key("VERSION").String(),
		VersionID:       section.Key("VERSION_ID").String(),
		VersionCodename: section.Key("VERSION_CODENAME").String(),
	}, nil
}
