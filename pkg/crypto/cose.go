package crypto

import (
	"fmt"

	"github.com/ldclabs/cose/iana"
	"github.com/ldclabs/cose/key"
)

// EC2KeyFromCoordinates builds a P-256 EC2 COSE_Key from big-endian
// coordinates: {1: 2 (kty), 3: alg, -1: 1 (crv), -2: x, -3: y}.
func EC2KeyFromCoordinates(alg key.Alg, x, y []byte) (key.Key, error) {
	if len(x) != 32 || len(y) != 32 {
		return nil, fmt.Errorf("crypto: EC2 coordinates must be 32 bytes, got %d/%d", len(x), len(y))
	}

	return key.Key{
		iana.KeyParameterKty:    iana.KeyTypeEC2,
		iana.KeyParameterAlg:    int(alg),
		iana.EC2KeyParameterCrv: iana.EllipticCurveP_256,
		iana.EC2KeyParameterX:   x,
		iana.EC2KeyParameterY:   y,
	}, nil
}

// EC2KeyCoordinates extracts the x/y coordinates of an EC2 P-256 COSE_Key.
func EC2KeyCoordinates(k key.Key) (x, y []byte, err error) {
	kty, err := k.GetInt64(iana.KeyParameterKty)
	if err != nil || kty != int64(iana.KeyTypeEC2) {
		return nil, nil, fmt.Errorf("crypto: not an EC2 COSE_Key")
	}

	crv, err := k.GetInt64(iana.EC2KeyParameterCrv)
	if err != nil || crv != int64(iana.EllipticCurveP_256) {
		return nil, nil, fmt.Errorf("crypto: unsupported curve")
	}

	x, err = k.GetBytes(iana.EC2KeyParameterX)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: missing x coordinate: %w", err)
	}
	y, err = k.GetBytes(iana.EC2KeyParameterY)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: missing y coordinate: %w", err)
	}

	return x, y, nil
}

// UncompressedPointToEC2Key converts an uncompressed SEC1 point (0x04 marker
// followed by two 32-byte coordinates) to an EC2 COSE_Key.
func UncompressedPointToEC2Key(alg key.Alg, point []byte) (key.Key, error) {
	if len(point) != 65 || point[0] != 0x04 {
		return nil, fmt.Errorf("crypto: invalid uncompressed P-256 point")
	}

	return EC2KeyFromCoordinates(alg, point[1:33], point[33:65])
}
