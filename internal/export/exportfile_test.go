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

package export

import (
	"archive/zip"
	"bytes"
	"crypto/ecdsa"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rotwarn/exposure-key-server/internal/export/model"
	"github.com/rotwarn/exposure-key-server/internal/pb/export"
	"github.com/rotwarn/exposure-key-server/internal/project"
	publishmodel "github.com/rotwarn/exposure-key-server/internal/publish/model"
	"github.com/rotwarn/exposure-key-server/pkg/keys"
	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/testing/protocmp"
)

// testSigner returns a Signer backed by a freshly generated ECDSA key and the
// public half for verifying what it produces.
func testSigner(tb testing.TB) (*Signer, *ecdsa.PublicKey) {
	tb.Helper()
	ctx := project.TestContext(tb)

	kms := keys.TestKeyManager(tb)
	keyID := keys.TestSigningKey(tb, kms)
	signer, err := kms.NewSigner(ctx, keyID)
	if err != nil {
		tb.Fatalf("unable to create signer: %v", err)
	}
	pub, ok := signer.Public().(*ecdsa.PublicKey)
	if !ok {
		tb.Fatalf("signing key is not ECDSA")
	}

	return &Signer{
		SignatureInfo: &model.SignatureInfo{
			SigningKeyVersion: "v1",
			SigningKeyID:      "310",
		},
		Signer: signer,
	}, pub
}

func TestMarshalUnmarshalExportFile(t *testing.T) {
	t.Parallel()

	signer, _ := testSigner(t)

	startTimestamp := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	endTimestamp := time.Date(2020, 5, 2, 0, 0, 0, 0, time.UTC)

	// Input arrives in descending key order, the file must not.
	exposures := []*publishmodel.Exposure{
		{
			ExposureKey:      bytes.Repeat([]byte{0x11}, publishmodel.KeyLength),
			TransmissionRisk: 4,
			Region:           "AT",
			DiagnosisType:    publishmodel.DiagnosisTypeRedWarning,
			IntervalNumber:   2649980,
			IntervalCount:    1,
		},
		{
			ExposureKey:      bytes.Repeat([]byte{0x00}, publishmodel.KeyLength),
			TransmissionRisk: 8,
			Region:           "AT",
			DiagnosisType:    publishmodel.DiagnosisTypeYellowWarning,
			IntervalNumber:   2649866,
			IntervalCount:    114,
		},
	}

	archive, digest, err := MarshalExportFile(startTimestamp, endTimestamp, "AT", exposures, 2, 3, []*Signer{signer})
	if err != nil {
		t.Fatalf("MarshalExportFile: %v", err)
	}
	if digest == "" {
		t.Errorf("expected a content digest, got empty string")
	}

	got, _, err := UnmarshalExportFile(archive)
	if err != nil {
		t.Fatalf("UnmarshalExportFile: %v", err)
	}

	want := &export.TemporaryExposureKeyExport{
		StartTimestamp: proto.Int64(startTimestamp.Unix()),
		EndTimestamp:   proto.Int64(endTimestamp.Unix()),
		Region:         proto.String("AT"),
		BatchNum:       proto.Int32(2),
		BatchSize:      proto.Int32(3),
		SignatureInfos: []*export.SignatureInfo{
			{
				VerificationKeyVersion: proto.String("v1"),
				VerificationKeyId:      proto.String("310"),
				SignatureAlgorithm:     proto.String(algorithm),
			},
		},
		Keys: []*export.TemporaryExposureKey{
			{
				KeyData:                    bytes.Repeat([]byte{0x00}, publishmodel.KeyLength),
				TransmissionRiskLevel:      proto.Int32(8),
				RollingStartIntervalNumber: proto.Int32(2649866),
				RollingPeriod:              proto.Int32(114),
			},
			{
				KeyData:                    bytes.Repeat([]byte{0x11}, publishmodel.KeyLength),
				TransmissionRiskLevel:      proto.Int32(4),
				RollingStartIntervalNumber: proto.Int32(2649980),
				RollingPeriod:              proto.Int32(1),
			},
		},
	}
	if diff := cmp.Diff(want, got, protocmp.Transform()); diff != "" {
		t.Errorf("export file mismatch (-want, +got):\n%s", diff)
	}
}

func TestMakeTEK(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		exp  *publishmodel.Exposure
		want *export.TemporaryExposureKey
	}{
		{
			name: "all_fields",
			exp: &publishmodel.Exposure{
				ExposureKey:      []byte{1, 2, 3},
				TransmissionRisk: 5,
				IntervalNumber:   2650000,
				IntervalCount:    72,
			},
			want: &export.TemporaryExposureKey{
				KeyData:                    []byte{1, 2, 3},
				TransmissionRiskLevel:      proto.Int32(5),
				RollingStartIntervalNumber: proto.Int32(2650000),
				RollingPeriod:              proto.Int32(72),
			},
		},
		{
			name: "zero_interval_number_omitted",
			exp: &publishmodel.Exposure{
				ExposureKey:   []byte{1, 2, 3},
				IntervalCount: 72,
			},
			want: &export.TemporaryExposureKey{
				KeyData:               []byte{1, 2, 3},
				TransmissionRiskLevel: proto.Int32(0),
				RollingPeriod:         proto.Int32(72),
			},
		},
		{
			name: "default_rolling_period_omitted",
			exp: &publishmodel.Exposure{
				ExposureKey:    []byte{1, 2, 3},
				IntervalNumber: 2650000,
				IntervalCount:  144,
			},
			want: &export.TemporaryExposureKey{
				KeyData:                    []byte{1, 2, 3},
				TransmissionRiskLevel:      proto.Int32(0),
				RollingStartIntervalNumber: proto.Int32(2650000),
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := makeTEK(tc.exp)
			if diff := cmp.Diff(tc.want, got, protocmp.Transform()); diff != "" {
				t.Errorf("makeTEK mismatch (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestArchiveLayout(t *testing.T) {
	t.Parallel()

	signer, _ := testSigner(t)
	exposures := []*publishmodel.Exposure{
		{
			ExposureKey:    bytes.Repeat([]byte{0x42}, publishmodel.KeyLength),
			IntervalNumber: 2649980,
			IntervalCount:  144,
		},
	}

	archive, _, err := MarshalExportFile(time.Unix(1588291200, 0), time.Unix(1588377600, 0), "AT", exposures, 1, 1, []*Signer{signer})
	if err != nil {
		t.Fatalf("MarshalExportFile: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("archive entries: got %d, want 2", len(zr.File))
	}
	assert.Equal(t, exportBinaryName, zr.File[0].Name)
	assert.Equal(t, exportSignatureName, zr.File[1].Name)

	f, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("opening %v: %v", exportBinaryName, err)
	}
	defer f.Close()
	header := make([]byte, fixedHeaderWidth)
	if _, err := io.ReadFull(f, header); err != nil {
		t.Fatalf("reading header: %v", err)
	}
	if !bytes.Equal(header, []byte("EK Export v1    ")) {
		t.Errorf("header: got %q, want %q", header, "EK Export v1    ")
	}
}

func TestSignatureVerifies(t *testing.T) {
	t.Parallel()

	signer, pub := testSigner(t)
	exposures := []*publishmodel.Exposure{
		{
			ExposureKey:    bytes.Repeat([]byte{0x42}, publishmodel.KeyLength),
			IntervalNumber: 2649980,
			IntervalCount:  144,
		},
	}

	archive, _, err := MarshalExportFile(time.Unix(1588291200, 0), time.Unix(1588377600, 0), "AT", exposures, 1, 1, []*Signer{signer})
	if err != nil {
		t.Fatalf("MarshalExportFile: %v", err)
	}

	_, digest, err := UnmarshalExportFile(archive)
	if err != nil {
		t.Fatalf("UnmarshalExportFile: %v", err)
	}
	sigList, err := UnmarshalSignatureFile(archive)
	if err != nil {
		t.Fatalf("UnmarshalSignatureFile: %v", err)
	}
	if len(sigList.Signatures) != 1 {
		t.Fatalf("signatures: got %d, want 1", len(sigList.Signatures))
	}

	sig := sigList.Signatures[0]
	assert.Equal(t, proto.Int32(1), sig.BatchNum)
	assert.Equal(t, proto.Int32(1), sig.BatchSize)
	assert.Equal(t, proto.String(algorithm), sig.SignatureInfo.SignatureAlgorithm)
	if !ecdsa.VerifyASN1(pub, digest, sig.Signature) {
		t.Errorf("signature did not verify over the archive digest")
	}
}

func TestSharedSignatureAcrossIdentities(t *testing.T) {
	t.Parallel()

	signer, pub := testSigner(t)
	// Two advertised identities backed by the same signing key.
	signers := []*Signer{
		signer,
		{
			SignatureInfo: &model.SignatureInfo{
				SigningKeyVersion: "v2",
				SigningKeyID:      "310",
			},
			Signer: signer.Signer,
		},
	}
	exposures := []*publishmodel.Exposure{
		{
			ExposureKey:    bytes.Repeat([]byte{0x42}, publishmodel.KeyLength),
			IntervalNumber: 2649980,
			IntervalCount:  144,
		},
	}

	archive, _, err := MarshalExportFile(time.Unix(1588291200, 0), time.Unix(1588377600, 0), "AT", exposures, 1, 1, signers)
	if err != nil {
		t.Fatalf("MarshalExportFile: %v", err)
	}

	keyExport, digest, err := UnmarshalExportFile(archive)
	if err != nil {
		t.Fatalf("UnmarshalExportFile: %v", err)
	}
	if len(keyExport.SignatureInfos) != 2 {
		t.Fatalf("signature infos: got %d, want 2", len(keyExport.SignatureInfos))
	}

	sigList, err := UnmarshalSignatureFile(archive)
	if err != nil {
		t.Fatalf("UnmarshalSignatureFile: %v", err)
	}
	if len(sigList.Signatures) != 2 {
		t.Fatalf("signatures: got %d, want 2", len(sigList.Signatures))
	}

	// The payload is signed once, both entries carry the same bytes.
	if !bytes.Equal(sigList.Signatures[0].Signature, sigList.Signatures[1].Signature) {
		t.Errorf("signature bytes differ between identities")
	}
	assert.Equal(t, proto.String("v1"), sigList.Signatures[0].SignatureInfo.VerificationKeyVersion)
	assert.Equal(t, proto.String("v2"), sigList.Signatures[1].SignatureInfo.VerificationKeyVersion)
	for i, s := range sigList.Signatures {
		if !ecdsa.VerifyASN1(pub, digest, s.Signature) {
			t.Errorf("signature %d did not verify", i)
		}
	}
}

func TestMarshalNoSigners(t *testing.T) {
	t.Parallel()

	exposures := []*publishmodel.Exposure{
		{
			ExposureKey:    bytes.Repeat([]byte{0x42}, publishmodel.KeyLength),
			IntervalNumber: 2649980,
			IntervalCount:  144,
		},
	}

	archive, _, err := MarshalExportFile(time.Unix(1588291200, 0), time.Unix(1588377600, 0), "AT", exposures, 1, 1, nil)
	if err != nil {
		t.Fatalf("MarshalExportFile: %v", err)
	}

	if _, _, err := UnmarshalExportFile(archive); err != nil {
		t.Fatalf("UnmarshalExportFile: %v", err)
	}
	sigList, err := UnmarshalSignatureFile(archive)
	if err != nil {
		t.Fatalf("UnmarshalSignatureFile: %v", err)
	}
	if len(sigList.Signatures) != 0 {
		t.Errorf("signatures: got %d, want 0", len(sigList.Signatures))
	}
}

func TestUnmarshalExportFileErrors(t *testing.T) {
	t.Parallel()

	zipWith := func(name string, contents []byte) []byte {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		f, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry: %v", err)
		}
		if _, err := f.Write(contents); err != nil {
			t.Fatalf("writing zip entry: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("closing zip: %v", err)
		}
		return buf.Bytes()
	}

	cases := []struct {
		name    string
		payload []byte
	}{
		{
			name:    "not_a_zip",
			payload: []byte("this is not a zip file"),
		},
		{
			name:    "missing_export_bin",
			payload: zipWith("something-else.txt", []byte("hello")),
		},
		{
			name:    "content_too_short",
			payload: zipWith(exportBinaryName, []byte("EK")),
		},
		{
			name:    "wrong_header",
			payload: zipWith(exportBinaryName, bytes.Repeat([]byte{0xff}, fixedHeaderWidth)),
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, _, err := UnmarshalExportFile(tc.payload); err == nil {
				t.Errorf("expected error, got nil")
			}
		})
	}
}
