/*
Copyright 2024 The Orchest Authors.

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

// Package tlsutil provides the HTTP facade's optional TLS flags, the
// same enable/cert/key trio the teacher's deck and hook binaries expose
// for running behind an HTTPS-terminating ingress.
package tlsutil

import (
	"errors"

	"github.com/spf13/pflag"
)

// Options holds the TLS flags for a facade binary. When EnableSSL is
// false the other two fields are ignored.
type Options struct {
	EnableSSL bool
	CertFile  string
	KeyFile   string
}

// AddFlags registers --enable-ssl, --server-cert-file and
// --server-key-file on fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.EnableSSL, "enable-ssl", false, "Serve the HTTP facade over TLS.")
	fs.StringVar(&o.CertFile, "server-cert-file", "", "Location of the server cert file. Required if --enable-ssl is set.")
	fs.StringVar(&o.KeyFile, "server-key-file", "", "Location of the server key file. Required if --enable-ssl is set.")
}

// Validate checks that both cert and key are set whenever SSL is
// enabled.
func (o *Options) Validate() error {
	if !o.EnableSSL {
		return nil
	}
	if o.CertFile == "" {
		return errors.New("flag --enable-ssl was set but required flag --server-cert-file was not set")
	}
	if o.KeyFile == "" {
		return errors.New("flag --enable-ssl was set but required flag --server-key-file was not set")
	}
	return nil
}
