// Copyright 2020 the Exposure Key Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This tool displays the content of an export archive and optionally verifies
// its signature against a PEM encoded ECDSA public key.
package main

import (
	"crypto/ecdsa"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rotwarn/exposure-key-server/internal/export"
	exportpb "github.com/rotwarn/exposure-key-server/internal/pb/export"
	"github.com/rotwarn/exposure-key-server/internal/publish/model"
	"github.com/rotwarn/exposure-key-server/pkg/keys"
	"github.com/hashicorp/go-multierror"
)

var (
	filePath      = flag.String("file", "", "Path to the export zip file.")
	printJSON     = flag.Bool("json", true, "Print a JSON representation of the output")
	quiet         = flag.Bool("q", false, "run in quiet mode")
	allowedTEKAge = flag.Duration("tekage", 14*24*time.Hour, "max TEK age in checks")
	publicKeyPath = flag.String("public-key", "", "Path to a PEM encoded ECDSA public key to verify the signature with")
)

func main() {
	flag.Parse()
	if *filePath == "" {
		log.Fatal("--file is required.")
	}
	if *allowedTEKAge < time.Duration(0) {
		log.Fatalf("--tekage must be a positive duration, got: %v", *allowedTEKAge)
	}

	blob, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatalf("can't read export file: %v", err)
	}

	keyExport, digest, err := export.UnmarshalExportFile(blob)
	if err != nil {
		log.Fatalf("error unmarshaling export file: %v", err)
	}

	// Do some basic data validation.
	success := true
	if err := checkExportFile(keyExport); err != nil {
		success = false
		if !*quiet {
			log.Printf("export file contains errors: %v", err)
		}
	}

	if *publicKeyPath != "" {
		if err := checkSignature(blob, digest, *publicKeyPath); err != nil {
			success = false
			if !*quiet {
				log.Printf("signature verification failed: %v", err)
			}
		} else if !*quiet {
			log.Printf("signature verified")
		}
	}

	if *printJSON {
		prettyJSON, err := json.MarshalIndent(keyExport, "", "  ")
		if err != nil {
			log.Fatalf("error pretty printing export: %v", err)
		}
		log.Printf("%v", string(prettyJSON))
	}

	if !success {
		// return a non zero code if there are issues with the export file.
		os.Exit(1)
	}
}

func checkExportFile(keyExport *exportpb.TemporaryExposureKeyExport) error {
	now := time.Now().UTC()
	floor := model.IntervalNumber(now.Add(-*allowedTEKAge))
	ceiling := model.IntervalNumber(now)

	return checkKeys("keys", keyExport.Keys, floor, ceiling)
}

func checkKeys(kType string, keys []*exportpb.TemporaryExposureKey, floor, ceiling int32) error {
	var errors *multierror.Error
	for i, k := range keys {
		if l := len(k.KeyData); l != model.KeyLength {
			errors = multierror.Append(errors, fmt.Errorf("%s #%d: invalid key length: want %d, got: %v", kType, i, model.KeyLength, l))
		}
		if s := k.GetRollingStartIntervalNumber(); s < floor {
			errors = multierror.Append(errors, fmt.Errorf("%s #%d: rolling interval start number is > %v ago, want >= %d, got %d", kType, i, *allowedTEKAge, floor, s))
		} else if s > ceiling {
			errors = multierror.Append(errors, fmt.Errorf("%s #%d: rolling interval start number in the future, want < %d, got %d", kType, i, ceiling, s))
		}
		if r := k.GetRollingPeriod(); r < 1 || r > model.MaxIntervalCount {
			errors = multierror.Append(errors, fmt.Errorf("%s #%d: rolling period invalid, want >= 1 && <= %d, got %d", kType, i, model.MaxIntervalCount, r))
		}
	}
	return errors.ErrorOrNil()
}

// checkSignature verifies every signature in the archive's signature file over
// the digest of the export contents.
func checkSignature(blob, digest []byte, publicKeyFile string) error {
	pemBytes, err := os.ReadFile(publicKeyFile)
	if err != nil {
		return fmt.Errorf("can't read public key: %w", err)
	}
	pub, err := keys.ParseECDSAPublicKey(string(pemBytes))
	if err != nil {
		return err
	}

	sigList, err := export.UnmarshalSignatureFile(blob)
	if err != nil {
		return fmt.Errorf("error unmarshaling signature file: %w", err)
	}
	if len(sigList.GetSignatures()) == 0 {
		return fmt.Errorf("export contains no signatures")
	}

	var errors *multierror.Error
	for i, sig := range sigList.GetSignatures() {
		if ecdsa.VerifyASN1(pub, digest, sig.GetSignature()) {
			continue
		}
		info := sig.GetSignatureInfo()
		errors = multierror.Append(errors, fmt.Errorf("signature #%d (id %q version %q) does not verify",
			i, info.GetVerificationKeyId(), info.GetVerificationKeyVersion()))
	}
	return errors.ErrorOrNil()
}
