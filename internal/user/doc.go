// Package user は登録ユーザーの資格情報ストアを提供する。
//
// メモリ上のストア（プロセス終了で消える）とSQLiteによる永続ストアの
// 2種類を持ち、どちらも Store インターフェースを満たす。
// メールアドレスを自然キーとして扱い、大文字小文字を区別して比較する。
package user
