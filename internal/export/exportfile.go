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
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rotwarn/exposure-key-server/internal/export/model"
	publishmodel "github.com/rotwarn/exposure-key-server/internal/publish/model"

	export "github.com/rotwarn/exposure-key-server/internal/pb/export"

	"google.golang.org/protobuf/proto"
)

const (
	exportBinaryName     = "export.bin"
	exportSignatureName  = "export.sig"
	defaultIntervalCount = 144
	// http://oid-info.com/get/1.2.840.10045.4.3.2
	algorithm = "1.2.840.10045.4.3.2"
)

var (
	fixedHeader      = []byte("EK Export v1    ")
	fixedHeaderWidth = 16
)

// Signer pairs the metadata advertised inside an archive with the signer that
// produces the signature bytes. All pairs in one archive share the same
// underlying signer.
type Signer struct {
	SignatureInfo *model.SignatureInfo
	Signer        crypto.Signer
}

// MarshalExportFile converts the inputs into an encoded zip archive and
// returns the hex sha256 of the marshaled protobuf contents.
func MarshalExportFile(startTimestamp, endTimestamp time.Time, region string, exposures []*publishmodel.Exposure, batchNum, batchSize int, signers []*Signer) ([]byte, string, error) {
	// create main exposure key export binary
	expContents, err := marshalContents(startTimestamp, endTimestamp, region, exposures, int32(batchNum), int32(batchSize), signers)
	if err != nil {
		return nil, "", fmt.Errorf("unable to marshal exposure keys: %w", err)
	}

	// create signature file
	sigContents, err := marshalSignature(expContents, int32(batchNum), int32(batchSize), signers)
	if err != nil {
		return nil, "", fmt.Errorf("unable to marshal signature file: %w", err)
	}

	// create compressed archive of binary and signature
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	zf, err := zw.Create(exportBinaryName)
	if err != nil {
		return nil, "", fmt.Errorf("unable to create zip entry for export: %w", err)
	}
	if _, err := zf.Write(expContents); err != nil {
		return nil, "", fmt.Errorf("unable to write export to archive: %w", err)
	}
	zf, err = zw.Create(exportSignatureName)
	if err != nil {
		return nil, "", fmt.Errorf("unable to create zip entry for signature: %w", err)
	}
	if _, err := zf.Write(sigContents); err != nil {
		return nil, "", fmt.Errorf("unable to write signature to archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("unable to close archive: %w", err)
	}

	digest := sha256.Sum256(expContents)
	return buf.Bytes(), hex.EncodeToString(digest[:]), nil
}

// sortExposures orders the keys canonically by their raw bytes so that the
// marshaled output does not depend on publish order.
func sortExposures(exposures []*publishmodel.Exposure) {
	sort.Slice(exposures, func(i, j int) bool {
		return bytes.Compare(exposures[i].ExposureKey, exposures[j].ExposureKey) < 0
	})
}

func makeTEK(exp *publishmodel.Exposure) *export.TemporaryExposureKey {
	pbek := export.TemporaryExposureKey{
		KeyData:               exp.ExposureKey,
		TransmissionRiskLevel: proto.Int32(int32(exp.TransmissionRisk)),
	}
	if exp.IntervalNumber != 0 {
		pbek.RollingStartIntervalNumber = proto.Int32(exp.IntervalNumber)
	}
	if exp.IntervalCount != defaultIntervalCount {
		pbek.RollingPeriod = proto.Int32(exp.IntervalCount)
	}
	return &pbek
}

func marshalContents(startTimestamp, endTimestamp time.Time, region string, exposures []*publishmodel.Exposure, batchNum, batchSize int32, signers []*Signer) ([]byte, error) {
	exportBytes := fixedHeader
	if len(exportBytes) != fixedHeaderWidth {
		return nil, fmt.Errorf("incorrect header length: %d", len(exportBytes))
	}

	sortExposures(exposures)
	var pbeks []*export.TemporaryExposureKey
	for _, exp := range exposures {
		pbeks = append(pbeks, makeTEK(exp))
	}

	var exportSigInfos []*export.SignatureInfo
	for _, si := range signers {
		exportSigInfos = append(exportSigInfos, createSignatureInfo(si.SignatureInfo))
	}

	pbeke := export.TemporaryExposureKeyExport{
		StartTimestamp: proto.Int64(startTimestamp.Unix()),
		EndTimestamp:   proto.Int64(endTimestamp.Unix()),
		Region:         proto.String(region),
		BatchNum:       proto.Int32(batchNum),
		BatchSize:      proto.Int32(batchSize),
		Keys:           pbeks,
		SignatureInfos: exportSigInfos,
	}
	protoBytes, err := proto.Marshal(&pbeke)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal exposure keys: %w", err)
	}
	return append(exportBytes, protoBytes...), nil
}

func createSignatureInfo(si *model.SignatureInfo) *export.SignatureInfo {
	sigInfo := &export.SignatureInfo{SignatureAlgorithm: proto.String(algorithm)}
	if si.SigningKeyVersion != "" {
		sigInfo.VerificationKeyVersion = proto.String(si.SigningKeyVersion)
	}
	if si.SigningKeyID != "" {
		sigInfo.VerificationKeyId = proto.String(si.SigningKeyID)
	}
	return sigInfo
}

func marshalSignature(exportContents []byte, batchNum, batchSize int32, signers []*Signer) ([]byte, error) {
	var signatures []*export.TEKSignature
	if len(signers) > 0 {
		// Every advertised identity refers to the same server signing key, so
		// the payload is signed once and the bytes are shared by all entries.
		sig, err := generateSignature(exportContents, signers[0].Signer)
		if err != nil {
			return nil, fmt.Errorf("unable to generate signature: %w", err)
		}
		for _, s := range signers {
			signatures = append(signatures, &export.TEKSignature{
				SignatureInfo: createSignatureInfo(s.SignatureInfo),
				BatchNum:      proto.Int32(batchNum),
				BatchSize:     proto.Int32(batchSize),
				Signature:     sig,
			})
		}
	}
	teksl := export.TEKSignatureList{
		Signatures: signatures,
	}
	protoBytes, err := proto.Marshal(&teksl)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal signature file: %w", err)
	}
	return protoBytes, nil
}

// generateSignature signs the export file contents, including the fixed
// header.
func generateSignature(data []byte, signer crypto.Signer) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("unable to sign: %w", err)
	}
	return sig, nil
}

// UnmarshalExportFile extracts the protobuf encoded exposure keys present in
// the zip archived payload. It returns the parsed TemporaryExposureKeyExport
// message and the SHA256 digest of the signed content. The digest is useful
// in validating the signature as it is the digest of the content that was
// signed when the archive was created.
func UnmarshalExportFile(zippedPayload []byte) (*export.TemporaryExposureKeyExport, []byte, error) {
	zp, err := zip.NewReader(bytes.NewReader(zippedPayload), int64(len(zippedPayload)))
	if err != nil {
		return nil, nil, fmt.Errorf("can't read payload: %w", err)
	}

	for _, file := range zp.File {
		if file.Name == exportBinaryName {
			return unmarshalContent(file)
		}
	}

	return nil, nil, fmt.Errorf("payload is invalid: no %v file was found", exportBinaryName)
}

func unmarshalContent(file *zip.File) (*export.TemporaryExposureKeyExport, []byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}
	if len(content) < fixedHeaderWidth {
		return nil, nil, fmt.Errorf("content too short: %d bytes", len(content))
	}

	digest := sha256.Sum256(content)

	prefix := content[:fixedHeaderWidth]
	if !bytes.Equal(prefix, fixedHeader) {
		return nil, nil, fmt.Errorf("unknown prefix: %v", string(prefix))
	}

	message := new(export.TemporaryExposureKeyExport)
	if err := proto.Unmarshal(content[fixedHeaderWidth:], message); err != nil {
		return nil, nil, err
	}

	return message, digest[:], nil
}

// UnmarshalSignatureFile extracts the protobuf encoded signature list present
// in the zip archived payload.
func UnmarshalSignatureFile(zippedPayload []byte) (*export.TEKSignatureList, error) {
	zp, err := zip.NewReader(bytes.NewReader(zippedPayload), int64(len(zippedPayload)))
	if err != nil {
		return nil, fmt.Errorf("can't read payload: %w", err)
	}

	for _, file := range zp.File {
		if file.Name == exportSignatureName {
			return unmarshalSignatureContent(file)
		}
	}

	return nil, fmt.Errorf("payload is invalid: no %v file was found", exportSignatureName)
}

func unmarshalSignatureContent(file *zip.File) (*export.TEKSignatureList, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	message := new(export.TEKSignatureList)
	if err := proto.Unmarshal(content, message); err != nil {
		return nil, err
	}

	return message, nil
}
