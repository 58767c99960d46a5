// Grounded on original_source/crates/dryad_runtime/src/native_modules/crypto.rs's
// register_crypto_functions table (sha2, md5, uuid, base64, hex, rand,
// bcrypt), adapted to the stdlib + golang.org/x/crypto/bcrypt + google/uuid
// equivalents the corpus already depends on.
package natives

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"dryad/internal/value"
	"dryad/internal/vm"
)

func registerCrypto(m *vm.VM) {
	m.DefineNative("native_hash_sha256", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("native_hash_sha256: esperado 1 argumento, recebido %d", len(args))
		}
		sum := sha256.Sum256([]byte(args[0].AsString()))
		return value.NewString(hex.EncodeToString(sum[:])), nil
	})

	m.DefineNative("native_hash_md5", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("native_hash_md5: esperado 1 argumento, recebido %d", len(args))
		}
		sum := md5.Sum([]byte(args[0].AsString()))
		return value.NewString(hex.EncodeToString(sum[:])), nil
	})

	m.DefineNative("native_uuid", func(args []value.Value) (value.Value, error) {
		return value.NewString(uuid.New().String()), nil
	})

	m.DefineNative("native_base64_encode", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("native_base64_encode: esperado 1 argumento, recebido %d", len(args))
		}
		return value.NewString(base64.StdEncoding.EncodeToString([]byte(args[0].AsString()))), nil
	})

	m.DefineNative("native_base64_decode", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("native_base64_decode: esperado 1 argumento, recebido %d", len(args))
		}
		out, err := base64.StdEncoding.DecodeString(args[0].AsString())
		if err != nil {
			return value.Value{}, fmt.Errorf("native_base64_decode: %w", err)
		}
		return value.NewString(string(out)), nil
	})

	m.DefineNative("native_hex_encode", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("native_hex_encode: esperado 1 argumento, recebido %d", len(args))
		}
		return value.NewString(hex.EncodeToString([]byte(args[0].AsString()))), nil
	})

	m.DefineNative("native_hex_decode", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("native_hex_decode: esperado 1 argumento, recebido %d", len(args))
		}
		out, err := hex.DecodeString(args[0].AsString())
		if err != nil {
			return value.Value{}, fmt.Errorf("native_hex_decode: %w", err)
		}
		return value.NewString(string(out)), nil
	})

	m.DefineNative("native_random_bytes", func(args []value.Value) (value.Value, error) {
		n := 16
		if len(args) == 1 {
			n = int(args[0].AsNumber())
		}
		if n < 0 {
			return value.Value{}, fmt.Errorf("native_random_bytes: comprimento negativo")
		}
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return value.Value{}, fmt.Errorf("native_random_bytes: %w", err)
		}
		return value.NewString(hex.EncodeToString(buf)), nil
	})

	m.DefineNative("native_bcrypt_hash", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, fmt.Errorf("native_bcrypt_hash: esperado 1 argumento, recebido %d", len(args))
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(args[0].AsString()), bcrypt.DefaultCost)
		if err != nil {
			return value.Value{}, fmt.Errorf("native_bcrypt_hash: %w", err)
		}
		return value.NewString(string(hashed)), nil
	})

	m.DefineNative("native_bcrypt_verify", func(args []value.Value) (value.Value, error) {
		if len(args) != 2 {
			return value.Value{}, fmt.Errorf("native_bcrypt_verify: esperados 2 argumentos, recebido %d", len(args))
		}
		err := bcrypt.CompareHashAndPassword([]byte(args[0].AsString()), []byte(args[1].AsString()))
		return value.NewBool(err == nil), nil
	})
}
