/*
Copyright (c) The TRDP-Go Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

//go:build !linux

package vos

import (
	"fmt"
	"net"
)

// Non-Linux platforms get a stub: TRDP's target is train Ethernet gear
// running Linux, the same split the teacher makes between
// timestamp_linux.go (full hardware timestamping support) and
// timestamp_darwin.go (software-only stub).

func setSockOptions(_ int, _ SockOptions) error {
	return NewError(KindIntegration, "setSockOptions", fmt.Errorf("socket options only implemented on linux"))
}

func joinMulticast(_ int, _ net.IP, _ *net.Interface) error {
	return NewError(KindIntegration, "joinMulticast", fmt.Errorf("multicast only implemented on linux"))
}

func leaveMulticast(_ int, _ net.IP, _ *net.Interface) error {
	return NewError(KindIntegration, "leaveMulticast", fmt.Errorf("multicast only implemented on linux"))
}

func setMulticastIf(_ int, _ *net.Interface) error {
	return NewError(KindIntegration, "setMulticastIf", fmt.Errorf("multicast only implemented on linux"))
}
