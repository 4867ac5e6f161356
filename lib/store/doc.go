// Package store provides the typed key-value contract of sKV.
//
// Key Components:
//
//   - Value: An immutable tagged union over string, binary, integer, float and
//     bool. Values have a binary encoding (protobuf wire format, used on disk and
//     by the binary RPC serializer) and a JSON encoding ({"integer": 42}).
//
//   - Kvpair: A key together with its value.
//
//   - IStore Interface: get, set (returns the previous value), delete (returns
//     the removed value), contains, get all and prefix iteration. The local
//     implementation lives in the lstore package.
//
//   - Error System: *Error carries a RetCode. InvalidArgument marks bad input,
//     StorageFailure marks engine failures. A missing key is not an error.
package store
