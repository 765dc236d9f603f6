// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small network I/O helpers shared by the mesh
// and Discord links.
//
// ReadResponse and ErrorBody bound HTTP body reads at MaxResponseSize.
// IsExpectedCloseError separates ordinary connection teardown from
// errors worth logging.
package netutil
